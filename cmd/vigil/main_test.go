// File: cmd/vigil/main_test.go
package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlePanic(t *testing.T) {
	originalWrite, originalExit := osWriteFile, osExit
	t.Cleanup(func() { osWriteFile, osExit = originalWrite, originalExit })

	t.Run("Writes Panic Log", func(t *testing.T) {
		var written, name string
		exitCode := -1
		osWriteFile = func(n string, data []byte, _ os.FileMode) error {
			name, written = n, string(data)
			return nil
		}
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, panicLogFile, name)
		assert.Contains(t, written, "panic: boom")
		assert.Equal(t, 2, exitCode)
	})

	t.Run("Write Failure Still Exits", func(t *testing.T) {
		exitCode := -1
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, 2, exitCode)
	})

	t.Run("No Panic", func(t *testing.T) {
		called := false
		osExit = func(int) { called = true }

		func() {
			defer handlePanic()
		}()

		assert.False(t, called)
	})
}
