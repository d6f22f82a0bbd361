// Package memory implements the quantity parsing and JVM heap sizing rules
// the reconciler needs when translating spec.resources.limits.memory into
// an OPENSEARCH_JAVA_OPTS heap flag.
package memory

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"
)

// MaxHeapBytes is the ceiling OpenSearch (and every JVM using compressed
// oops) tolerates well: 31GiB, past which object pointer compression is
// disabled and GC pause times degrade sharply.
const MaxHeapBytes = 31 * 1024 * 1024 * 1024

// ParseBytes parses a Kubernetes resource quantity string ("10Gi", "10G",
// "4096Mi", ...) into a byte count. Binary (Ki/Mi/Gi/Ti/Pi/Ei) and decimal
// (K/M/G/T/P/E) suffixes follow resource.Quantity's own semantics, which is
// exactly the split : parse_memory("10Gi") == 10*1024^3 and
// parse_memory("10G") == 10*10^9.
func ParseBytes(quantity string) (int64, error) {
	q, err := resource.ParseQuantity(quantity)
	if err != nil {
		return 0, fmt.Errorf("parsing memory quantity %q: %w", quantity, err)
	}
	return q.Value(), nil
}

// HeapMegabytes computes JVM heap = min(memory_limit/2, 31GiB), expressed
// in megabytes for the -Xms/-Xmx flags OpenSearch's jvm.options consumes
// via OPENSEARCH_JAVA_OPTS.
func HeapMegabytes(memoryLimit string) (int64, error) {
	bytes, err := ParseBytes(memoryLimit)
	if err != nil {
		return 0, err
	}
	heap := bytes / 2
	if heap > MaxHeapBytes {
		heap = MaxHeapBytes
	}
	return heap / (1024 * 1024), nil
}

// HeapFlag renders the megabyte heap size the way OpenSearch's startup
// script expects it: a bare number followed by "m".
func HeapFlag(memoryLimit string) (string, error) {
	mb, err := HeapMegabytes(memoryLimit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%dm", mb), nil
}
