// Package task hosts protocol state machines.
//
// A Scheduler owns task lifetime. Every handler of one task (Start,
// Handle, Tick, Close) runs on that task's lane, one at a time; lanes of
// different tasks run concurrently. A handler returning Destroy makes the
// scheduler call Close on the same lane and forget the task; events still
// queued for it are dropped.
//
// Tasks may be spawned under an owner key. DestroyChildTasks(owner)
// synchronously destroys every task spawned under that key.
package task
