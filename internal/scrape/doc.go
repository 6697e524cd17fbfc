// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scrape defines the fetch capability the execution engine
// drives, and the error taxonomy the retry policy classifies against.
//
// The engine never parses markup. A Fetcher hands it pages of already
// normalized items; what "fetching" means (a headless browser, a plain
// HTTP client, a fixture in tests) is the adapter's business.
//
// Errors cross this boundary as *Error values carrying an ErrorKind.
// Transient kinds (timeout, rate-limited, connection-reset) are retry
// eligible; structural errors are not, because retrying an unexpected
// source shape cannot help.
package scrape
