package filter

// DumpFilter 全量快照时用来圈定库表范围
type DumpFilter struct {
	Databases []string `json:"databases,omitempty"`

	// 这两个将会覆盖上面的数据库选项
	TableDB string   `json:"tableDB,omitempty"`
	Tables  []string `json:"tables,omitempty"`

	IgnoreTables []string `json:"ignoreTables,omitempty"`
	Where        string   `json:"where,omitempty"`
}
