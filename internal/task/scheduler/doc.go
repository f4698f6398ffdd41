// Package scheduler fires periodic jobs (cron specs or fixed intervals) into
// the task engine. remindd uses it for the safety re-scan that re-derives
// every reminder trigger even when no lifecycle signal arrived.
//
// The scheduler only decides when; execution, timeouts and overlap skipping
// happen in engine.Service.
package scheduler
