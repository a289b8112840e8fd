// Package device maps the --device flag onto a tensor device and reports
// what the host CPU offers.
package device

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/tensor"
)

// Parse returns the tensor device named by s. Only "cpu" is available.
func Parse(s string) (tensor.DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return tensor.CPU, nil
	default:
		return tensor.CPU, errors.Config("unsupported device %q: only cpu is available", s)
	}
}

// Info describes the host CPU.
type Info struct {
	Brand         string
	PhysicalCores int
	LogicalCores  int
	Features      []string
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%d cores, %d threads, %s)",
		i.Brand, i.PhysicalCores, i.LogicalCores, strings.Join(i.Features, ","))
}

var simdFeatures = []struct {
	name string
	id   cpuid.FeatureID
}{
	{"sse4.2", cpuid.SSE42},
	{"avx", cpuid.AVX},
	{"avx2", cpuid.AVX2},
	{"fma3", cpuid.FMA3},
	{"avx512f", cpuid.AVX512F},
	{"asimd", cpuid.ASIMD},
}

// Describe reports the CPU brand, core counts and SIMD features.
func Describe() Info {
	info := Info{
		Brand:         cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
	}
	if info.Brand == "" {
		info.Brand = runtime.GOARCH
	}
	if info.LogicalCores <= 0 {
		info.LogicalCores = runtime.NumCPU()
	}
	for _, f := range simdFeatures {
		if cpuid.CPU.Supports(f.id) {
			info.Features = append(info.Features, f.name)
		}
	}
	return info
}

// DefaultWorkers is the number of sample-loading goroutines used when none
// is configured.
func DefaultWorkers() int {
	n := Describe().LogicalCores
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}
