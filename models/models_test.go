package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"

	"github.com/nvr-ai/go-yolou/config"
)

func TestParseClasses(t *testing.T) {
	tests := []struct {
		value string
		want  []string
	}{
		{value: "", want: DefaultClasses},
		{value: `["plane", "ship"]`, want: []string{"plane", "ship"}},
		{value: "plane, ship", want: []string{"plane", "ship"}},
		{value: "['plane']", want: []string{"plane"}},
		{value: " , ", want: DefaultClasses},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseClasses(tt.value))
		})
	}
}

func TestNewNet(t *testing.T) {
	params := &config.Params{
		Common: config.Section{"image_size": "45", "batch_size": "1"},
		Net:    config.Section{"pool_layers": "0", "base_filters": "2"},
	}

	net, err := NewNet(G.NewGraph(), params)
	require.NoError(t, err)
	assert.NotEmpty(t, net.Learnables())

	params.Net["name"] = "Unknown"
	_, err = NewNet(G.NewGraph(), params)
	require.Error(t, err)
}
