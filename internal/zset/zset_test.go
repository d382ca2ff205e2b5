package zset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyPurgesZeroWeights(t *testing.T) {
	z := ZSet{"users:1": 1, "users:2": 2}
	z.Apply(ZSet{"users:1": -1, "users:2": -1, "users:3": 1})

	assert.Equal(t, ZSet{"users:2": 1, "users:3": 1}, z)
}

func TestMembershipOps(t *testing.T) {
	z := New()
	assert.False(t, z.IsMember("users:1"))

	z.AddMember("users:1")
	z.AddMember("users:1") // idempotent
	assert.True(t, z.IsMember("users:1"))
	assert.Equal(t, int64(1), z["users:1"])

	z.RemoveMember("users:1")
	assert.False(t, z.IsMember("users:1"))
}

func TestNormalize(t *testing.T) {
	z := ZSet{"a": 3, "b": 1, "c": 0, "d": -2}
	z.Normalize()
	assert.Equal(t, ZSet{"a": 1, "b": 1}, z)
}

func TestApplyMembership(t *testing.T) {
	z := ZSet{"a": 1, "b": 1}
	// a leaves, b survives a spurious +1, c enters with join-style weight 2.
	z.ApplyMembership(ZSet{"a": -1, "b": 1, "c": 2})
	assert.Equal(t, ZSet{"b": 1, "c": 1}, z)
}

func TestMembershipDiff(t *testing.T) {
	cache := ZSet{"a": 1, "b": 1}
	target := ZSet{"b": 2, "c": 1, "d": 0}

	diff := cache.MembershipDiff(target)
	assert.Equal(t, ZSet{"c": 1, "a": -1}, diff)

	cache.ApplyMembership(diff)
	assert.Equal(t, ZSet{"b": 1, "c": 1}, cache)
}

func TestSplitKey(t *testing.T) {
	table, id, ok := SplitKey("users:1")
	assert.True(t, ok)
	assert.Equal(t, "users", table)
	assert.Equal(t, "1", id)

	// The id portion may contain colons.
	table, id, ok = SplitKey("users:a:b:c")
	assert.True(t, ok)
	assert.Equal(t, "users", table)
	assert.Equal(t, "a:b:c", id)

	_, _, ok = SplitKey("no-colon")
	assert.False(t, ok)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "users:1", Key("users", "1"))
	assert.Equal(t, "users:1", Key("users", "users:1"))
	assert.Equal(t, "users:other:1", Key("users", "other:1"))
}
