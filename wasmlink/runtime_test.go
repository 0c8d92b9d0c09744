package wasmlink

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuntimeBodiesEmit(t *testing.T) {
	l := New()
	l.DeclareRuntime(false)
	l.ComputeLayout()
	l.EmitRuntimeBodies(false)

	for _, name := range []string{
		"cot_alloc", "cot_retain", "cot_release", "cot_string_concat",
		"cot_string_eq", "cot_panic", "cot_memcpy", "cot_memset",
		"__test_begin", "__test_print_name", "__test_pass", "__test_fail",
		"__test_summary", "__test_store_fail_values", "__test_print_i64",
	} {
		var body []byte
		for _, f := range l.funcs {
			if f.name == name {
				body = f.body
			}
		}
		require.NotNil(t, body, "%s must carry a body", name)
		require.Equal(t, byte(OpEnd), body[len(body)-1], "%s body ends with end", name)
	}
}

func TestReleaseBodyDispatchesDestructor(t *testing.T) {
	l := New()
	l.DeclareRuntime(false)
	l.ComputeLayout()
	l.EmitRuntimeBodies(false)

	var release []byte
	for _, f := range l.funcs {
		if f.name == "cot_release" {
			release = f.body
		}
	}
	require.NotNil(t, release)
	// The zero-refcount path calls through the destructor table.
	require.True(t, bytes.Contains(release, []byte{OpCallIndirect}))
	// Null and immortal checks guard the decrement.
	require.True(t, bytes.Contains(release, []byte{OpI64Eqz}))
	require.True(t, bytes.Contains(release, EncodeInt64(ImmortalRefcount)))
}

func TestAllocBodyReturnsPastHeader(t *testing.T) {
	l := New()
	l.DeclareRuntime(false)
	l.ComputeLayout()
	l.EmitRuntimeBodies(false)

	var alloc []byte
	for _, f := range l.funcs {
		if f.name == "cot_alloc" {
			alloc = f.body
		}
	}
	require.NotNil(t, alloc)
	// The user-data offset 12 appears both in the bump and in the result.
	require.GreaterOrEqual(t, bytes.Count(alloc, []byte{OpI64Const, 12}), 2)
}

func TestStubWriteAndTime(t *testing.T) {
	l := New()
	l.DeclareRuntime(false)
	l.ComputeLayout()
	l.EmitRuntimeBodies(false)
	var tm []byte
	for _, f := range l.funcs {
		if f.name == "cot_time" {
			tm = f.body
		}
	}
	// The stub clock reads zero.
	require.Equal(t, []byte{0x00, OpI64Const, 0x00, OpEnd}, tm)
}
