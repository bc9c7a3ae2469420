// Package config defines the jalsync-server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation before the server starts
//   - sanitize.go: a copy safe to log
//   - build.go: conversion into service and transport settings
//
// Configuration is loaded through internal/infra/confloader.
package config
