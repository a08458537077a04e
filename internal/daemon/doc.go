// Package daemon coordinates the long-running Carousel process and its
// system integration points.
//
// It wires configuration, the conversion queue, the history journal, and
// notifications into a single lifecycle with flock-based locking to prevent
// multiple instances. The daemon owns the watch-directory ingester, the
// removable media monitor, and the read-only HTTP API with its websocket
// event feed, mirrors terminal queue events into the journal, and publishes
// milestones through the notification service.
//
// Keep orchestration logic here: conversion mechanics belong to queue and
// worker while the daemon focuses on startup, shutdown, and wiring.
package daemon
