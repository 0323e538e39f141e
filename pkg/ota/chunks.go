package ota

// ChunkPlan splits a payload of size bytes into write requests of at most chunkSize
// bytes. All chunks are full except possibly the last.
func ChunkPlan(size, chunkSize int) []int {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}

	count := (size + chunkSize - 1) / chunkSize
	plan := make([]int, count)
	for i := range plan {
		plan[i] = chunkSize
	}
	plan[count-1] = size - chunkSize*(count-1)
	return plan
}
