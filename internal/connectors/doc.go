// Package connectors contains content source implementations for external
// providers. Each subpackage implements driven.ContentSource for one
// provider: local directories, Google Drive folders, Gmail attachments
// and Figma design files.
package connectors
