package server

import (
	"fmt"

	"github.com/gridsx/pipegos/meta"
	"github.com/gridsx/pipegos/task"
	"github.com/kataras/iris/v12"
	"github.com/siddontang/go-log/log"
	"github.com/winjeg/irisword/ret"
)

func taskList(ctx iris.Context) {
	pipelines := task.GetPipelines()
	result := make(map[string]task.Status, len(pipelines))
	for k, p := range pipelines {
		result[k] = p.Status()
	}
	ret.Ok(ctx, result)
}

func taskDetail(ctx iris.Context) {
	taskId := ctx.URLParam("id")
	p := task.GetPipeline(taskId)
	if p == nil {
		ret.BadRequest(ctx, "task doesn't exist")
		return
	}
	result := make(map[string]interface{}, 4)
	sinkCfg, _ := meta.Manager.GetSinkTasks(meta.TaskInEffect, p.Inst.Id)
	result["instance"] = p.Inst
	result["running"] = p.Running()
	result["ready"] = p.Ready()
	result["sinks"] = sinkCfg
	ret.Ok(ctx, result)
}

// taskStatus 捕获侧与各分区消费者的细粒度状态, 用于巡检停摆的分区
func taskStatus(ctx iris.Context) {
	taskId := ctx.URLParam("id")
	p := task.GetPipeline(taskId)
	if p == nil {
		ret.NotFound(ctx)
		return
	}
	ret.Ok(ctx, p.Status())
}

// 对于新增任务
// 1. 指定binlog 位点, 直接从该位点开始捕获即可
// 2. 存在全量的, 先快照后增量, 以快照结束位点衔接
func addTask(ctx iris.Context) {
	ret.Ok(ctx, "not implemented")
}

func startTask(ctx iris.Context) {
	instId, _ := ctx.URLParamInt("id")

	if task.GetPipeline(fmt.Sprintf("%d", instId)) != nil {
		ret.Ok(ctx, "task already started")
		return
	}

	inst, err := meta.Manager.GetInstanceById(instId)
	if inst == nil {
		ret.Ok(ctx, "task not found.")
		return
	}
	if err != nil {
		ret.ServerError(ctx, err.Error())
		return
	}
	sinkTasks, tErr := meta.Manager.GetSinkTasks(meta.TaskInEffect, instId)
	if tErr != nil {
		ret.ServerError(ctx, tErr.Error())
		return
	}
	pipeline, pErr := task.NewPipeline(inst, sinkTasks)
	if pErr != nil {
		ret.ServerError(ctx, pErr.Error())
		return
	}
	go func(p *task.Pipeline) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("pipeline start panic %v\n", err)
			}
		}()
		if stErr := p.Start(); stErr != nil {
			log.Errorf("error starting pipeline: %v\n", stErr)
		}
	}(pipeline)
	ret.Ok(ctx)
}

func stopTask(ctx iris.Context) {
	taskId := ctx.URLParam("id")
	p := task.GetPipeline(taskId)
	if p == nil {
		ret.NotFound(ctx)
		return
	}
	p.Stop()
	ret.Ok(ctx)
}
