package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haste-cluster/haste/pkg/htypes"
)

func TestJSONCodec_RoundTripsCacheInfo(t *testing.T) {
	c := jsonCodec{}
	in := &CacheInfo{
		CacheType:  htypes.CacheTypeRedisCluster,
		Version:    "7.2.4",
		FileServer: "http://files.internal",
		Instances: []htypes.InstanceBundle{
			{Port: 7000, Files: []htypes.RenderedFile{{Path: "/data/cache/7000/redis.conf", Content: "port 7000\n"}}},
		},
	}

	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(CacheInfo)
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, in, out)
}

func TestJSONCodec_Name(t *testing.T) {
	assert.Equal(t, "json", jsonCodec{}.Name())
}

func TestJSONCodec_UnmarshalErrorWraps(t *testing.T) {
	c := jsonCodec{}
	err := c.Unmarshal([]byte("not json"), new(CacheInfo))
	assert.Error(t, err)
}
