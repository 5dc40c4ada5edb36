package hardware

const (
	InputCount  = 8
	OutputCount = 8

	DefaultChip = "gpiochip0"
	Consumer    = "expander-service"

	// Edges queued between the GPIO watcher and the debounce worker.
	DefaultEdgeQueue = 64
)

// Default BCM line offsets for the eight input and eight output channels.
var (
	DefaultInputLines  = []int{4, 17, 18, 27, 22, 23, 24, 25}
	DefaultOutputLines = []int{5, 6, 12, 13, 16, 19, 20, 26}
)
