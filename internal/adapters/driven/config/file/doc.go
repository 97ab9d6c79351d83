// Package file loads the agent configuration from a TOML file.
//
// Settings absent from the file keep the values of domain.DefaultConfig.
// A small set of S3LOGSBEAT_* environment variables override the file so
// containers can be configured without mounting one.
package file
