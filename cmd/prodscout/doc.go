// Package main hosts the prodscout entrypoint.
//
// Architecture overview:
//   - Discovery: in dork mode each query goes to the search Provider (SerpAPI first, a colly-scraped HTML results
//     page as fallback) and candidate URLs are filtered to Replit hosts. Every candidate page is fetched with the
//     colly probe fetcher, optionally promoted to a headless Chromedp fetch when the heuristic detector sees a
//     script-only shell, and its GitHub links are extracted with goquery. In github mode the GitHub repository
//     search replaces all of this.
//   - Enrichment & scoring: each distinct repository is enriched through the GitHub REST API (metadata, commit and
//     contributor counts, CI/Docker/Procfile/dependency file probes, README length) behind a per-host token bucket
//     and retry policy. With cloning enabled the repository is shallow-cloned and scanned with trufflehog and
//     bandit. The scorer turns the signals into a score and a production/non-production category.
//   - Persistence & fanout: records are upserted into the configured RepositoryStore (SQLite by default, Postgres
//     via pgx, or memory). A CSV export of each run goes to the configured BlobStore (local/GCS/memory) and
//     production repositories are announced on Pub/Sub when a topic is configured.
//   - Runs & progress: `serve` exposes the HTTP API; runs execute in the background under the run manager and
//     their progress flows through the progress Hub to the log, Prometheus and SSE broadcast sinks.
//
// Quick checklist:
//   - Configure env vars: GITHUB_TOKEN, SERPAPI_API_KEY, PRODSCOUT_STORE_BACKEND, DATABASE_URL for Postgres,
//     PRODSCOUT_EXPORT_BACKEND, and GOOGLE_CLOUD_PROJECT plus PRODSCOUT_PUBSUB_TOPIC_NAME for notifications.
//   - Run once: go run ./cmd/prodscout run --queries 'site:replit.app "github.com"'
//   - Serve: go run ./cmd/prodscout serve --config config.yaml
package main
