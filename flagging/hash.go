package flagging

// =============================================================================
// CONSISTENT HASHER - Deterministic subject bucketing
// =============================================================================

// Bucket maps a subject key to an integer in [0,100). It is a pure function
// of the input string: no time, no random seed, no external state, stable
// across process restarts. This is what makes every percentage decision in
// the engine reproducible.
//
// The hash is a 31-multiplier polynomial rolling hash wrapped to signed
// 32 bits, absolute value, modulo 100. Callers salt the subject id with the
// flag key or experiment id so the same subject lands in independent,
// uncorrelated buckets across different flags and experiments.
func Bucket(subjectKey string) int {
	var h int32
	for i := 0; i < len(subjectKey); i++ {
		h = h*31 + int32(subjectKey[i])
	}
	// int32 negation overflows at MinInt32, so widen before taking abs.
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % 100)
}

// BucketFor buckets a subject under a salt: Bucket(subjectID + salt).
func BucketFor(subjectID, salt string) int {
	return Bucket(subjectID + salt)
}

// InBucketRange reports whether the subject's bucket falls under the given
// percentage. Raising the percentage over time only adds subjects, never
// reassigns previously included ones: bucket < p1 implies bucket < p2 for
// p1 < p2 (monotonic rollout).
func InBucketRange(subjectID, salt string, percentage float64) bool {
	return float64(BucketFor(subjectID, salt)) < percentage
}
