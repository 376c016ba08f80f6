// Package enhancement implements the final pipeline stage: running the fused
// track through the external enhancer's normalize, compress, EQ, and limiter
// chain, then uploading the result to durable storage.
package enhancement
