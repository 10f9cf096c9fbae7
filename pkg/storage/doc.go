// Package storage provides the interface to backend byte stores.
//
// This package supports the following backends:
//   - S3 (AWS, or any S3-compatible endpoint)
//   - local file system
package storage
