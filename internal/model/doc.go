// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the persistent entities of the harvester:
// scraping tasks, extracted records, and export jobs.
//
// All lifecycle mutation goes through transition-validated methods so
// that an entity can never leave a terminal state or skip a state.
// Entities that are mutated while observers read them (Task, ExportJob)
// guard their fields with a mutex and expose Clone() for race-free reads.
//
// # Key Types
//
//   - Task: one configured extraction run against a target URL
//   - Config: validated per-task extraction settings
//   - Record: one immutable unit of extracted content, typed by kind
//   - ExportJob: one request to materialize a task's records as an artifact
package model
