// Package id provides the 128-bit sortable keys used to order pending
// messages in the main partition.
//
// An ID is 16 bytes big-endian: [8 bytes unix ms][8 bytes sequence], so a
// byte-wise comparison follows generation time. A Generator is monotonic for
// its own lifetime: a regressing clock pins it to the last millisecond seen,
// and a sequence overflow waits for the next millisecond.
//
// Keys produced by different generators only sort approximately by time.
// Stores seed a fresh generator with Observe using the highest key they
// already hold.
//
//	g := id.NewGenerator()
//	g.Observe(lastPersisted)
//	k := g.Next()
//	_ = k.Bytes()
package id
