// Package calendar 对接外部日历：从 Google Calendar 单向拉取事件、
// 周期性同步到本地存储，以及把本地事件导出为 iCalendar 文本。
// 周期事件的展开基于 RRULE，窗口外的实例不会物化。
package calendar
