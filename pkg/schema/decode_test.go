package schema

import (
	"errors"
	"math"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChartSeries(t *testing.T) {
	body := []byte(`{
		"data": [{
			"timestamp": 1697500800,
			"values": [
				{"id": "d-1", "name": "prod", "value": 1.25, "extra": true},
				{"id": "d-2", "name": "staging", "value": 0.4}
			]
		}],
		"unknown": "ignored"
	}`)

	series, err := DecodeChartSeries(body, ChartFieldData)
	require.NoError(t, err)
	require.Len(t, series.Data, 1)
	assert.Equal(t, uint64(1697500800), series.Data[0].Timestamp)
	assert.Equal(t, []ChartValue{
		{ID: "d-1", Name: "prod", Value: 1.25},
		{ID: "d-2", Name: "staging", Value: 0.4},
	}, series.Data[0].Values)
}

func TestDecodeChartSeries_EmptyData(t *testing.T) {
	series, err := DecodeChartSeries([]byte(`{"data": []}`), "")
	require.NoError(t, err)
	assert.Empty(t, series.Data)
}

func TestDecodeChartSeries_ConfiguredField(t *testing.T) {
	body := []byte(`{"array": [{"timestamp": 1, "values": [{"id": "a", "name": "b", "value": 2}]}]}`)

	series, err := DecodeChartSeries(body, ChartFieldArray)
	require.NoError(t, err)
	require.Len(t, series.Data, 1)

	// The other name is not guessed at.
	_, err = DecodeChartSeries(body, ChartFieldData)
	require.Error(t, err)
	var merr *MalformedError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "data", merr.Field)
}

func TestDecodeChartSeries_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"no wrapper", `{}`, "data"},
		{"null wrapper", `{"data": null}`, "data"},
		{"no timestamp", `{"data": [{"values": []}]}`, "data[0].timestamp"},
		{"no values", `{"data": [{"timestamp": 1}]}`, "data[0].values"},
		{"no id", `{"data": [{"timestamp": 1, "values": [{"name": "n", "value": 1}]}]}`, "data[0].values[0].id"},
		{"no name", `{"data": [{"timestamp": 1, "values": [{"id": "i", "value": 1}]}]}`, "data[0].values[0].name"},
		{"no value", `{"data": [{"timestamp": 1, "values": [{"id": "i", "name": "n"}]}]}`, "data[0].values[0].value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeChartSeries([]byte(tt.body), ChartFieldData)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))

			var merr *MalformedError
			require.True(t, errors.As(err, &merr))
			assert.Equal(t, tt.field, merr.Field)
		})
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	body := []byte(`{"results": [`)

	decoders := map[string]func([]byte) error{
		"chart":       func(b []byte) error { _, err := DecodeChartSeries(b, ""); return err },
		"deployments": func(b []byte) error { _, err := DecodeDeploymentCosts(b); return err },
		"groups":      func(b []byte) error { _, err := DecodeGroupListing(b); return err },
		"clusters":    func(b []byte) error { _, err := DecodeClusterListing(b); return err },
		"users":       func(b []byte) error { _, err := DecodeUserListing(b); return err },
		"status":      func(b []byte) error { _, err := DecodeChangeStatus(b); return err },
	}

	for name, decode := range decoders {
		t.Run(name, func(t *testing.T) {
			err := decode(body)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeDeploymentCosts(t *testing.T) {
	body := []byte(`{
		"totalCost": 123.45,
		"deployments": [{
			"id": "d-1",
			"name": "prod",
			"costsTotal": 100.5,
			"hourlyRate": 0.75,
			"dimensions": [
				{"type": "capacity", "cost": 90},
				{"type": "data_out", "cost": 10.5}
			]
		}]
	}`)

	costs, err := DecodeDeploymentCosts(body)
	require.NoError(t, err)
	assert.Equal(t, 123.45, costs.TotalCost)
	require.Len(t, costs.Deployments, 1)
	d := costs.Deployments[0]
	assert.Equal(t, "d-1", d.ID)
	assert.Equal(t, 100.5, d.CostsTotal)
	assert.Equal(t, 0.75, d.HourlyRate)
	assert.Equal(t, []CostDimension{{Type: "capacity", Cost: 90}, {Type: "data_out", Cost: 10.5}}, d.Dimensions)
}

func TestDecodeDeploymentCosts_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"total", `{"deployments": []}`, "totalCost"},
		{"deployments", `{"totalCost": 1}`, "deployments"},
		{"costsTotal", `{"totalCost": 1, "deployments": [{"id": "a", "name": "b", "hourlyRate": 1, "dimensions": []}]}`, "deployments[0].costsTotal"},
		{"hourlyRate", `{"totalCost": 1, "deployments": [{"id": "a", "name": "b", "costsTotal": 1, "dimensions": []}]}`, "deployments[0].hourlyRate"},
		{"dimensions", `{"totalCost": 1, "deployments": [{"id": "a", "name": "b", "costsTotal": 1, "hourlyRate": 1}]}`, "deployments[0].dimensions"},
		{"dimension cost", `{"totalCost": 1, "deployments": [{"id": "a", "name": "b", "costsTotal": 1, "hourlyRate": 1, "dimensions": [{"type": "x"}]}]}`, "deployments[0].dimensions[0].cost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDeploymentCosts([]byte(tt.body))
			var merr *MalformedError
			require.True(t, errors.As(err, &merr))
			assert.Equal(t, tt.field, merr.Field)
		})
	}
}

func TestDeploymentCosts_RoundTripPreservesFloats(t *testing.T) {
	values := []float64{
		0.1 + 0.2,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
		1.0 / 3.0,
		123456789.123456789,
		0,
	}

	original := DeploymentCosts{TotalCost: values[0]}
	for i, v := range values {
		original.Deployments = append(original.Deployments, DeploymentCost{
			ID:         "d",
			Name:       "n",
			CostsTotal: v,
			HourlyRate: values[len(values)-1-i],
			Dimensions: []CostDimension{{Type: "capacity", Cost: v}},
		})
	}

	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := DecodeDeploymentCosts(encoded)
	require.NoError(t, err)

	reencoded, err := json.Marshal(decoded)
	require.NoError(t, err)

	again, err := DecodeDeploymentCosts(reencoded)
	require.NoError(t, err)

	assert.Equal(t, original, decoded)
	assert.Equal(t, original, again)
	for i := range original.Deployments {
		assert.Equal(t, math.Float64bits(original.Deployments[i].CostsTotal), math.Float64bits(again.Deployments[i].CostsTotal))
	}
}

func TestDecodeGroupListing(t *testing.T) {
	body := []byte(`{"results": [{"id": "g1", "name": "alpha"}, {"id": "g2", "name": "beta"}], "totalCount": 2, "links": []}`)

	groups, err := DecodeGroupListing(body)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), groups.TotalCount)
	assert.Equal(t, []Group{{ID: "g1", Name: "alpha"}, {ID: "g2", Name: "beta"}}, groups.Results)
}

func TestDecodeGroupListing_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no results", `{"totalCount": 0}`},
		{"no totalCount", `{"results": []}`},
		{"no id", `{"results": [{"name": "alpha"}], "totalCount": 1}`},
		{"no name", `{"results": [{"id": "g1"}], "totalCount": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeGroupListing([]byte(tt.body))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeClusterListing(t *testing.T) {
	clusters, err := DecodeClusterListing([]byte(`{"results": [{"name": "c0", "mongoDBVersion": "7.0"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []Cluster{{Name: "c0"}}, clusters.Results)

	_, err = DecodeClusterListing([]byte(`{"results": [{"id": "x"}]}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeUserListing(t *testing.T) {
	body := []byte(`{"results": [
		{"username": "alice", "scopes": [{"name": "c0", "type": "CLUSTER"}]},
		{"username": "bob", "scopes": []},
		{"username": "carol"}
	]}`)

	users, err := DecodeUserListing(body)
	require.NoError(t, err)
	require.Len(t, users.Results, 3)
	assert.Equal(t, []Scope{{Name: "c0", Type: "CLUSTER"}}, users.Results[0].Scopes)
	assert.Empty(t, users.Results[1].Scopes)
	assert.NotNil(t, users.Results[2].Scopes)
	assert.Empty(t, users.Results[2].Scopes)
}

func TestDecodeUserListing_MissingUsername(t *testing.T) {
	_, err := DecodeUserListing([]byte(`{"results": [{"scopes": []}]}`))

	var merr *MalformedError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "results[0].username", merr.Field)
	assert.Contains(t, err.Error(), "user listing")
}

func TestDecodeChangeStatus(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"changeStatus": "APPLIED"}`, StatusApplied},
		{`{"changeStatus": "PENDING"}`, StatusPending},
		{`{"changeStatus": "SOMETHING_NEW"}`, "SOMETHING_NEW"},
	}

	for _, tt := range tests {
		status, err := DecodeChangeStatus([]byte(tt.body))
		require.NoError(t, err)
		assert.Equal(t, tt.want, status.ChangeStatus)
	}

	_, err := DecodeChangeStatus([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMalformed)
}
