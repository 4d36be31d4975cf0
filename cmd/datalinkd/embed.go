package main

import _ "embed"

// embeddedConfig holds the YAML configuration embedded at build time.
// Packaging overwrites embed_config.yaml with site defaults before compiling;
// an empty file leaves the built-in defaults in place.
//
//go:embed embed_config.yaml
var embeddedConfig []byte
