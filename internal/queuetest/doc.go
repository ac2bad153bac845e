// Package queuetest is a conformance suite for queue.Queue implementations.
//
// Every backend runs Run from its own tests; persistent backends also run
// RunDurable. Subtests receive a fake Clock so that timestamp and orphan
// checks are deterministic.
//
//	func TestConformance(t *testing.T) {
//	    queuetest.Run(t, func(t *testing.T, o queuetest.Options) queue.Queue {
//	        q := memqueue.New(memqueue.Options{Options: o.QueueOptions()})
//	        t.Cleanup(func() { _ = q.Close() })
//	        return q
//	    })
//	}
package queuetest
