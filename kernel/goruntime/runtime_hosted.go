//go:build !baremetal

package goruntime

// When running hosted, the runtime has already initialized itself before
// any package code runs.

func algInit()       {}
func modulesInit()   {}
func typeLinksInit() {}
func itabsInit()     {}
func mallocInit()    {}
