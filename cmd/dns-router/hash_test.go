package main

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRunHashPassword(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runHashPassword(&out, "hunter2", bcrypt.MinCost))

	m := regexp.MustCompile(`password_hash: "([^"]+)"`).FindStringSubmatch(out.String())
	require.Len(t, m, 2)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(m[1]), []byte("hunter2")))
	assert.Contains(t, out.String(), "api:\n  enabled: true")
}

func TestRunHashPassword_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runHashPassword(&out, "", bcrypt.MinCost))
	assert.Error(t, runHashPassword(&out, "x", bcrypt.MinCost-1))
	assert.Error(t, runHashPassword(&out, "x", bcrypt.MaxCost+1))
	assert.Empty(t, out.String())
}
