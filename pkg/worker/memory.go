package worker

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerGB = 1 << 30

// HostMemory returns the memory currently available on this machine in GB
func HostMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read host memory: %w", err)
	}
	return float64(vm.Available) / bytesPerGB, nil
}
