// Package storage keeps the optional run history: one record per executed
// job. The agent only appends; operators read it back with `iris history`.
package storage
