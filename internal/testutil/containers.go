// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// ContainerParallelEnv caps the number of container tests running at once.
const ContainerParallelEnv = "WHEELHOUSE_TEST_CONTAINER_PARALLEL"

var (
	containerSlots = sync.OnceValue(func() chan struct{} {
		return make(chan struct{}, containerParallelism())
	})

	providerAvailable = sync.OnceValue(func() (ok bool) {
		// GetProvider panics on some hosts without a daemon socket.
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		provider, err := testcontainers.ProviderDocker.GetProvider()
		if err != nil {
			return false
		}
		defer provider.Close()
		return true
	})
)

func containerParallelism() int {
	if v := os.Getenv(ContainerParallelEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return min(runtime.GOMAXPROCS(0), 2)
}

// RequireContainers skips t under -short or when no container provider is
// reachable. Otherwise it holds one container slot until t finishes.
func RequireContainers(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	if !providerAvailable() {
		t.Skip("no container provider available")
	}
	slots := containerSlots()
	slots <- struct{}{}
	t.Cleanup(func() { <-slots })
}
