// Package testutil provides in-memory fakes shared by package tests: a
// capturing broker publisher and a snapshot sink with error injection.
package testutil
