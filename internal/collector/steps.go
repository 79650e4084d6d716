package collector

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/saasmeter/internal/mapper"
	"github.com/yairfalse/saasmeter/internal/restclient"
	"github.com/yairfalse/saasmeter/pkg/emission"
	"github.com/yairfalse/saasmeter/pkg/schema"
)

func groupsPath(itemsPerPage int) string {
	return fmt.Sprintf("groups?itemsPerPage=%d", itemsPerPage)
}

func usersPath(groupID string, itemsPerPage int) string {
	return fmt.Sprintf("groups/%s/databaseUsers?itemsPerPage=%d", url.PathEscape(groupID), itemsPerPage)
}

func clustersPath(groupID string, itemsPerPage int) string {
	return fmt.Sprintf("groups/%s/clusters?itemsPerPage=%d", url.PathEscape(groupID), itemsPerPage)
}

func statusPath(groupID, cluster string) string {
	return fmt.Sprintf("groups/%s/clusters/%s/status", url.PathEscape(groupID), url.PathEscape(cluster))
}

func chartsPath(from, to time.Time, bounded bool) string {
	path := "charts?from=" + from.UTC().Format(time.RFC3339)
	if bounded {
		path += "&to=" + to.UTC().Format(time.RFC3339)
	}
	return path
}

func deploymentsPath(now time.Time) string {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return "deployments?from=" + first.Format(time.RFC3339)
}

func (c *Collector) listGroups(ctx context.Context, p *pass) ([]schema.Group, error) {
	body, err := p.client.Get(ctx, groupsPath(p.settings.itemsPerPage))
	if err != nil {
		return nil, err
	}
	listing, err := schema.DecodeGroupListing(body)
	if err != nil {
		return nil, err
	}
	if int(listing.TotalCount) > len(listing.Results) {
		log.Warn().Ctx(ctx).
			Int("total", int(listing.TotalCount)).
			Int("listed", len(listing.Results)).
			Msg("project listing truncated to one page")
	}
	return listing.Results, nil
}

// collectProject runs the steps for one project in order: users, clusters,
// then the status of every listed cluster.
func (c *Collector) collectProject(ctx context.Context, p *pass, g mapper.Project) {
	ctx, span := c.recorder.StartSpan(ctx, "collect.project",
		attribute.String("project", g.Name),
		attribute.String("project_id", g.ID),
	)
	defer span.End()

	if ems, err := c.fetchUsers(ctx, p, g); err != nil {
		c.fail(ctx, p, c.projectFailure(g, StepUsers, err))
	} else {
		c.emit(p, ems)
	}

	if ctx.Err() != nil {
		return
	}

	clusters, err := c.fetchClusters(ctx, p, g)
	if err != nil {
		c.fail(ctx, p, c.projectFailure(g, StepClusters, err))
		return
	}
	c.emit(p, mapper.ProjectClusters(g, clusters))

	for _, cl := range clusters.Results {
		if ctx.Err() != nil {
			return
		}
		e, err := c.fetchStatus(ctx, p, g, cl.Name)
		if err != nil {
			f := c.projectFailure(g, StepClusterStatus, err)
			f.Cluster = cl.Name
			c.fail(ctx, p, f)
			continue
		}
		c.emit(p, []emission.Emission{e})
	}

	log.Debug().Ctx(ctx).
		Str("project", g.Name).
		Int("clusters", len(clusters.Results)).
		Msg("project collected")
}

func (c *Collector) projectFailure(g mapper.Project, step string, err error) StepFailure {
	return StepFailure{
		Project:   g.Name,
		ProjectID: g.ID,
		Step:      step,
		Kind:      restclient.Kind(err),
		Err:       err,
	}
}

func (c *Collector) fetchUsers(ctx context.Context, p *pass, g mapper.Project) ([]emission.Emission, error) {
	body, err := p.client.Get(ctx, usersPath(g.ID, p.settings.itemsPerPage))
	if err != nil {
		return nil, err
	}
	users, err := schema.DecodeUserListing(body)
	if err != nil {
		return nil, err
	}
	return mapper.ProjectUsers(g, users), nil
}

func (c *Collector) fetchClusters(ctx context.Context, p *pass, g mapper.Project) (schema.ClusterListing, error) {
	body, err := p.client.Get(ctx, clustersPath(g.ID, p.settings.itemsPerPage))
	if err != nil {
		return schema.ClusterListing{}, err
	}
	return schema.DecodeClusterListing(body)
}

func (c *Collector) fetchStatus(ctx context.Context, p *pass, g mapper.Project, cluster string) (emission.Emission, error) {
	body, err := p.client.Get(ctx, statusPath(g.ID, cluster))
	if err != nil {
		return emission.Emission{}, err
	}
	status, err := schema.DecodeChangeStatus(body)
	if err != nil {
		return emission.Emission{}, err
	}
	return mapper.ClusterStatusOf(g, cluster, status), nil
}

// accountStep is an account-wide billing step. It runs next to the project
// tasks and does not hold an admission slot.
type accountStep struct {
	name string
	fn   func(context.Context, *pass) ([]emission.Emission, error)
}

func (c *Collector) accountSteps(p *pass) []accountStep {
	var steps []accountStep
	if p.settings.hourlyRate {
		steps = append(steps, accountStep{StepCharts, c.fetchHourlyRates})
	}
	if p.settings.monthlyCosts {
		steps = append(steps, accountStep{StepDeployments, c.fetchMonthlyCosts})
	}
	return steps
}

func (c *Collector) runAccountStep(ctx context.Context, p *pass, s accountStep) {
	ctx, span := c.recorder.StartSpan(ctx, "collect."+s.name)
	defer span.End()

	ems, err := s.fn(ctx, p)
	if err != nil {
		c.fail(ctx, p, StepFailure{Step: s.name, Kind: restclient.Kind(err), Err: err})
		return
	}
	c.emit(p, ems)
	log.Debug().Ctx(ctx).Str("step", s.name).Int("count", len(ems)).Msg("billing step complete")
}

func (c *Collector) fetchHourlyRates(ctx context.Context, p *pass) ([]emission.Emission, error) {
	now := c.now()
	body, err := p.client.Get(ctx, chartsPath(now.Add(-p.settings.chartWindow), now, p.settings.chartBounded))
	if err != nil {
		return nil, err
	}
	series, err := schema.DecodeChartSeries(body, p.settings.chartField)
	if err != nil {
		return nil, err
	}
	return mapper.HourlyRates(series), nil
}

func (c *Collector) fetchMonthlyCosts(ctx context.Context, p *pass) ([]emission.Emission, error) {
	body, err := p.client.Get(ctx, deploymentsPath(c.now()))
	if err != nil {
		return nil, err
	}
	costs, err := schema.DecodeDeploymentCosts(body)
	if err != nil {
		return nil, err
	}
	return mapper.MonthlyCosts(costs), nil
}
