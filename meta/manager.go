package meta

import (
	"database/sql"
	"encoding/json"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/gridsx/pipegos/store"
	"github.com/siddontang/go-log/log"
)

type metaManager struct{}

const (
	InstanceCreated = 0
	InstanceRunning = 1
	InstanceStopped = 2
	InstanceDeleted = 7

	TaskInEffect = 0
	TaskDeleted  = 7
)

const (
	// 实例表操作
	getInstanceSql     = `select id, source_id, host, port, username, password, state, dump_config, filter_config, created, updated FROM instances WHERE state = ?`
	getInstanceByIdSql = `select id, source_id, host, port, username, password, state, dump_config, filter_config, created, updated FROM instances WHERE id = ? AND state != 7`
	updateInstStateSql = `update instances set state = ? where id = ?`
	updateDumpSql      = `update instances set dump_config = ? WHERE id = ?`

	// 投递任务表操作
	getSinkTasksSql    = `select id, name, description, instance_id, sink_config, state, created, updated FROM sink_tasks WHERE state = ? AND instance_id = ?`
	updateTaskStateSql = `update sink_tasks SET state = ? WHERE id = ?`

	// 捕获位点: 先持久化成功读到的位点, 再视为已消费
	getPositionSql  = `select position from source_positions where source_id = ?`
	savePositionSql = `insert into source_positions (source_id, position, updated_at) values (?, ?, now())
		on duplicate key update position = values(position), updated_at = now()`

	// 投递位点: 只有目标存储确认写入之后才会提交
	getOffsetSql  = `select log_offset from sink_offsets where consumer_group = ? and topic = ? and partition_id = ?`
	saveOffsetSql = `insert into sink_offsets (consumer_group, topic, partition_id, log_offset, updated_at) values (?, ?, ?, ?, now())
		on duplicate key update log_offset = values(log_offset), updated_at = now()`
)

func db() *sql.DB {
	return store.GetDb()
}

func (m *metaManager) GetInstances(state int) ([]*InstanceInfo, error) {
	rows, err := db().Query(getInstanceSql, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	instances := make([]*InstanceInfo, 0, 4)
	for rows.Next() {
		var inst InstanceInfo
		scanErr := rows.Scan(&inst.Id, &inst.SourceID, &inst.Host, &inst.Port, &inst.Username, &inst.Password,
			&inst.State, &inst.DumpConfig, &inst.FilterConfig, &inst.Created, &inst.Updated)
		if scanErr != nil {
			log.Errorf("error scan data: %v\n", scanErr)
			continue
		}
		instances = append(instances, &inst)
	}
	return instances, nil
}

func (m *metaManager) GetInstanceById(id int) (*InstanceInfo, error) {
	row := db().QueryRow(getInstanceByIdSql, id)
	var inst InstanceInfo
	scanErr := row.Scan(&inst.Id, &inst.SourceID, &inst.Host, &inst.Port, &inst.Username, &inst.Password,
		&inst.State, &inst.DumpConfig, &inst.FilterConfig, &inst.Created, &inst.Updated)
	if scanErr != nil {
		return nil, nil
	}
	return &inst, nil
}

func (m *metaManager) UpdateInstanceState(instId int, state int) error {
	a, err := db().Exec(updateInstStateSql, state, instId)
	if err != nil {
		return err
	}
	if r, _ := a.RowsAffected(); r > 0 {
		log.Infof("metaManager.UpdateInstanceState state saved: id: %d, state: %d\n", instId, state)
	}
	return nil
}

// 当全量完成之后, 此字段置空, 下次启动则不再全量
func (m *metaManager) UpdateDumpConfig(instId int, config string) error {
	a, err := db().Exec(updateDumpSql, config, instId)
	if err != nil {
		return err
	}
	if r, _ := a.RowsAffected(); r > 0 {
		log.Infof("metaManager.UpdateDumpConfig config updated: id: %d, : %s\n", instId, config)
	}
	return nil
}

func (m *metaManager) GetSinkTasks(state int, instanceId int) ([]*SinkTaskInfo, error) {
	rows, err := db().Query(getSinkTasksSql, state, instanceId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	taskInfos := make([]*SinkTaskInfo, 0, 4)
	for rows.Next() {
		var task SinkTaskInfo
		scanErr := rows.Scan(&task.Id, &task.Name, &task.Description, &task.InstanceId,
			&task.SinkConfig, &task.State, &task.Created, &task.Updated)
		if scanErr != nil {
			log.Errorf("error scan data: %v\n", scanErr)
			continue
		}
		taskInfos = append(taskInfos, &task)
	}
	return taskInfos, nil
}

func (m *metaManager) UpdateTaskState(taskId int, state int) error {
	a, err := db().Exec(updateTaskStateSql, state, taskId)
	if err != nil {
		return err
	}
	if r, _ := a.RowsAffected(); r > 0 {
		log.Infof("metaManager.UpdateTaskState state updated: id: %d, state: %d\n", taskId, state)
	}
	return nil
}

func (m *metaManager) LoadPosition(sourceID string) (*mysql.Position, error) {
	row := db().QueryRow(getPositionSql, sourceID)
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			// 没有位点即从头开始, 先全量再增量
			return nil, nil
		}
		return nil, err
	}
	pos := new(mysql.Position)
	if err := json.Unmarshal([]byte(data), pos); err != nil {
		return nil, err
	}
	return pos, nil
}

func (m *metaManager) SavePosition(sourceID string, position mysql.Position) error {
	// 一些情况下 pos 是错的
	if position.Pos == 0 && position.Name == "" {
		return nil
	}
	d, err := json.Marshal(position)
	if err != nil {
		return err
	}
	_, err = db().Exec(savePositionSql, sourceID, string(d))
	if err != nil {
		return err
	}
	log.Infof("metaManager.SavePosition position saved: source: %s, pos: %s\n", sourceID, string(d))
	return nil
}

func (m *metaManager) LoadOffset(group, topic string, partition int) (int64, bool, error) {
	row := db().QueryRow(getOffsetSql, group, topic, partition)
	var offset int64
	if err := row.Scan(&offset); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return offset, true, nil
}

func (m *metaManager) SaveOffset(group, topic string, partition int, offset int64) error {
	_, err := db().Exec(saveOffsetSql, group, topic, partition, offset)
	return err
}

var Manager = &metaManager{}
