package filter

import (
	"github.com/antonmedv/expr"
	"github.com/gridsx/pipegos/event"
)

type EventDataFilter struct {
	Databases []string `json:"databases,omitempty"`
	Tables    []string `json:"tables,omitempty"`

	// 过滤掉的数据 expr
	Exclude string `json:"exclude,omitempty"`

	// 保留的数据
	Include string `json:"include,omitempty"`
}

func (f *EventDataFilter) Match(r *event.ChangeRecord) bool {

	// 如果设置了库表过滤, 那么不在库表范围内的, 则认为是需要过滤
	if f.preMatch(r) {
		return true
	}

	// 如果没有设置表达式, 则不过滤, 默认 return false
	if len(f.Exclude) == 0 && len(f.Include) == 0 {
		return false
	}

	env := buildEnv(r)

	if len(f.Exclude) > 0 {
		if v, ok := eval(f.Exclude, env); ok {
			return v
		}
	}

	if len(f.Include) > 0 {
		if v, ok := eval(f.Include, env); ok {
			return !v
		}
	}
	return false
}

// 表达式环境形如 env["db"]["table"]["col"], 取变更后的行镜像, delete 取变更前
func buildEnv(r *event.ChangeRecord) map[string]interface{} {
	img := r.After
	if r.Op == event.OpDelete {
		img = r.Before
	}
	env := map[string]interface{}{}
	schemaMap := make(map[string]interface{}, 1)
	colMap := make(map[string]interface{}, len(img))
	for col, v := range img {
		colMap[col] = v
	}
	schemaMap[r.Table] = colMap
	env[r.Database] = schemaMap
	return env
}

func eval(code string, env map[string]interface{}) (bool, bool) {
	program, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		return false, false
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, false
	}
	if v, ok := output.(bool); ok {
		return v, true
	}
	return false, false
}

// 检查库表是否在范围内, 如果不在, 则是 true
func (f *EventDataFilter) preMatch(r *event.ChangeRecord) bool {
	if f.Databases != nil {
		inDB := false
		for _, v := range f.Databases {
			if v == r.Database {
				inDB = true
				break
			}
		}
		if !inDB {
			return true
		}
	}

	if f.Tables != nil {
		inTable := false
		for _, v := range f.Tables {
			if v == r.Table {
				inTable = true
				break
			}
		}
		if !inTable {
			return true
		}
	}
	return false
}
