package filter

import (
	"github.com/gridsx/pipegos/event"
)

// Filter 捕获侧过滤器, Match 为 true 表示该事件被过滤掉, 不再进入事件日志
type Filter interface {
	Match(r *event.ChangeRecord) bool
}
