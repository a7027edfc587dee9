// Command veil is the CLI for the video anonymization and adaptive delivery
// pipeline: process recordings, generate captions, inspect status, and run
// the background worker pool.
package main
