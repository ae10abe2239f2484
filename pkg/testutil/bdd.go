package testutil

import "testing"

// Given, When, and Then nest t.Run calls so scenario output reads as a
// sentence without pulling a BDD framework into unit tests. The e2e module
// uses godog for full feature files.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}
