package cache

import (
	"fmt"
	"path"
)

// Key identifies the artifacts of one pool instance.
type Key struct {
	ChainID uint64
	Token   string
}

// EventKind names an event log artifact.
type EventKind string

const (
	Commitments EventKind = "commitments"
	Nullifiers  EventKind = "nullifiers"
)

func sliceEntry(key Key, n int) string {
	return fmt.Sprintf("commitments_%s_slice%d.json", key.Token, n)
}

// SliceName is the artifact holding tree slice n (1-based, oldest first).
func SliceName(key Key, n int) string {
	return path.Join("trees", fmt.Sprint(key.ChainID), sliceEntry(key, n)+".zip")
}

func bloomEntry(key Key) string {
	return fmt.Sprintf("commitments_%s_bloom", key.Token)
}

func BloomName(key Key) string {
	return path.Join("trees", fmt.Sprint(key.ChainID), bloomEntry(key)+".zip")
}

func eventsEntry(key Key, kind EventKind) string {
	return fmt.Sprintf("%s_%s.json", kind, key.Token)
}

func EventsName(key Key, kind EventKind) string {
	return path.Join("events", fmt.Sprint(key.ChainID), eventsEntry(key, kind)+".zip")
}
