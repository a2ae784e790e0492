package connection

import "sync"

func resetInit() {
	initOnce = sync.Once{}
	initErr = nil
}
