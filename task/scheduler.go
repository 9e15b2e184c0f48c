package task

import "sync"

/// 记录本节点正在跑哪些管道
/// 同一个源库的管道应该落在同一个节点上, 避免重复拉 binlog

var (
	pipelineLock sync.RWMutex
	pipelineMap  = make(map[string]*Pipeline, 16)
)

func StorePipeline(p *Pipeline) {
	pipelineLock.Lock()
	defer pipelineLock.Unlock()
	pipelineMap[p.key] = p
}

func RemovePipeline(p *Pipeline) {
	pipelineLock.Lock()
	defer pipelineLock.Unlock()
	delete(pipelineMap, p.key)
}

func GetPipelines() map[string]*Pipeline {
	pipelineLock.RLock()
	defer pipelineLock.RUnlock()
	out := make(map[string]*Pipeline, len(pipelineMap))
	for k, v := range pipelineMap {
		out[k] = v
	}
	return out
}

func GetPipeline(id string) *Pipeline {
	pipelineLock.RLock()
	defer pipelineLock.RUnlock()
	return pipelineMap[id]
}
