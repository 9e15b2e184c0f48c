package task

import (
	"testing"

	"github.com/gridsx/pipegos/meta"
	"github.com/stretchr/testify/assert"
)

func TestPipelineRegistry(t *testing.T) {
	p := &Pipeline{key: "1", Inst: &meta.InstanceInfo{Id: 1, SourceID: "src-1"}}

	assert.Nil(t, GetPipeline("1"))
	StorePipeline(p)
	assert.Same(t, p, GetPipeline("1"))
	assert.Len(t, GetPipelines(), 1)

	RemovePipeline(p)
	assert.Nil(t, GetPipeline("1"))
	assert.Empty(t, GetPipelines())
}
