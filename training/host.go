package training

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"

	"github.com/tsawler/go-gan/tensor"
)

// HostInfo describes the machine the CPU kernels run on
type HostInfo struct {
	Brand        string
	LogicalCores int
	GOMAXPROCS   int
	AVX2         bool
	FMA          bool
	AVX512       bool
}

// DescribeHost probes the CPU for the features the dense kernels benefit from
func DescribeHost() HostInfo {
	return HostInfo{
		Brand:        cpuid.CPU.BrandName,
		LogicalCores: cpuid.CPU.LogicalCores,
		GOMAXPROCS:   runtime.GOMAXPROCS(0),
		AVX2:         cpuid.CPU.Supports(cpuid.AVX2),
		FMA:          cpuid.CPU.Supports(cpuid.FMA3),
		AVX512:       cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
	}
}

func (h HostInfo) String() string {
	return fmt.Sprintf("%s (%d logical cores, GOMAXPROCS=%d, avx2=%t, fma=%t, avx512=%t)",
		h.Brand, h.LogicalCores, h.GOMAXPROCS, h.AVX2, h.FMA, h.AVX512)
}

// ResolveDevice maps the accelerator flag to a placement. Tensors placed on
// GPU still compute on the host; the tag keeps models and batches on the same
// side of every operation.
func ResolveDevice(accelerator bool) tensor.DeviceType {
	if accelerator {
		return tensor.GPU
	}
	return tensor.CPU
}
