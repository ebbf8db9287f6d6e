// Package main hosts the swimcrawl entrypoint.
//
// Architecture overview:
//   - Discovery: the listing pages are fetched on the browser channel (chromedp when fetch.browser is set, colly
//     otherwise) and every team's roster page is fetched by a bounded worker pool. The resulting team to swimmer
//     index is written to the checkpoint store before any swimmer is fetched.
//   - Fetch: teams are processed in ascending ID order. Within a team a bounded errgroup fetches swimmer pages on
//     the HTTP channel, parses them with goquery and appends each swimmer to the team's roster CSV before its ID is
//     marked complete in the checkpoint (file log or SQLite).
//   - Blocking: a 403 or challenge page on any fetch stops the current batch, pauses the engine for the cooldown
//     and retries only the swimmers that are not yet recorded. crawler.max_cooldowns bounds the loop per team.
//   - Rate limiting: one token bucket per channel spaces requests by rate_limit.browser and rate_limit.http. HTTP
//     429 responses are retried up to fetch.max_rate_limit_retries times, waiting
//     fetch.rate_limit_backoff (fetch.rate_limit_policy=fixed) or a jittered doubling
//     capped at fetch.rate_limit_max_backoff (exponential).
//   - Fanout: recorded swimmers can also be upserted to Postgres or Supabase (ratings.on_record) and published to
//     Pub/Sub. Those sinks are best-effort; the roster file remains the source of truth for completion.
//   - Export: convert turns the roster files into swimmers.json on local disk or GCS and optionally upserts the
//     rating rows. enrich backfills profile images and social links.
//
// Operational notes:
//   - SIGINT and SIGTERM cancel the run. Recorded swimmers are durable, so rerunning fetch resumes.
//   - serve exposes /v1/swimmers/{id}, /v1/teams, /healthz and /metrics with chi.
//   - cleanup kills Chrome processes left behind by a crash.
//
// Quick checklist:
//   - Configure env vars: SWIMMER_CHECKPOINT_BACKEND, SWIMMER_RATINGS_BACKEND with the matching DSN or Supabase
//     credentials, SWIMMER_PUBSUB_ENABLED, SWIMMER_EXPORT_OUTPUT.
//   - Run locally: go run ./cmd/swimcrawl crawl --config config.yaml
package main
