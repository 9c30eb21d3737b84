package probe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotVector_FillsBeginEndRange(t *testing.T) {
	nodes := "abc 10.0.0.1:7000@17000 master - 0 0 1 connected 0-8191\n" +
		"def 10.0.0.2:7001@17001 master - 0 0 1 connected 8192-16383\n"

	vec := SlotVector(nodes)
	assert.Equal(t, "10.0.0.1:7000", vec[0])
	assert.Equal(t, "10.0.0.1:7000", vec[8191])
	assert.Equal(t, "10.0.0.2:7001", vec[8192])
	assert.Equal(t, "10.0.0.2:7001", vec[16383])
}

func TestSlotVector_SingleSlotToken(t *testing.T) {
	nodes := "abc 10.0.0.1:7000@17000 master - 0 0 1 connected 42\n"
	vec := SlotVector(nodes)
	assert.Equal(t, "10.0.0.1:7000", vec[42])
	assert.Equal(t, "", vec[41])
	assert.Equal(t, "", vec[43])
}

func TestSlotVector_SkipsSlaveAndFailLines(t *testing.T) {
	nodes := "abc 10.0.0.1:7000@17000 slave def 0 0 1 connected\n" +
		"ghi 10.0.0.2:7001@17001 master,fail - 0 0 1 connected 0-100\n"
	vec := SlotVector(nodes)
	for i := 0; i <= 100; i++ {
		assert.Equal(t, "", vec[i])
	}
}

func TestSlotVector_ImportingTokenSkippedMigratingRecorded(t *testing.T) {
	nodes := "abc 10.0.0.1:7000@17000 master - 0 0 1 connected 0-100 [200-<-xyz] [300->-xyz]\n"
	vec := SlotVector(nodes)
	assert.Equal(t, "10.0.0.1:7000", vec[0])
	assert.Equal(t, "10.0.0.1:7000", vec[100])
	assert.Equal(t, "", vec[200])
	assert.Equal(t, "10.0.0.1:7000", vec[300])
}

func TestSlotVector_SkipsEmptyLines(t *testing.T) {
	nodes := "abc 10.0.0.1:7000@17000 master - 0 0 1 connected 0-16383\n\n"
	vec := SlotVector(nodes)
	assert.Equal(t, 16384, len(vec))
	assert.Equal(t, "10.0.0.1:7000", vec[16383])
}

func TestSlotVector_BlankSlotDetectsInconsistency(t *testing.T) {
	nodes := "abc 10.0.0.1:7000@17000 master - 0 0 1 connected 0-16382\n"
	vec := SlotVector(nodes)
	blank := false
	for _, addr := range vec {
		if addr == "" {
			blank = true
			break
		}
	}
	assert.True(t, blank)
	assert.True(t, strings.HasPrefix(vec[0], "10.0.0.1"))
}
