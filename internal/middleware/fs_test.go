package middleware

import (
	"io/fs"
	"testing/fstest"
)

type testFS map[string]string

func (t testFS) FS() fs.FS {
	m := fstest.MapFS{}
	for name, body := range t {
		m[name] = &fstest.MapFile{Data: []byte(body)}
	}
	return m
}
