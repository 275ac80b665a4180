package azure

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/postgresql/armpostgresql"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
)

// ServersAPI is the subset of the PostgreSQL servers API used by the
// provider. Create and Delete block until the operation completes.
type ServersAPI interface {
	Get(ctx context.Context, resourceGroup, name string) (armpostgresql.Server, error)
	Create(ctx context.Context, resourceGroup, name string, server armpostgresql.ServerForCreate) (armpostgresql.Server, error)
	Delete(ctx context.Context, resourceGroup, name string) error
}

// FirewallRulesAPI creates server firewall rules, blocking until done.
type FirewallRulesAPI interface {
	CreateOrUpdate(ctx context.Context, resourceGroup, server, rule string, fw armpostgresql.FirewallRule) (armpostgresql.FirewallRule, error)
}

// ResourceGroupsAPI manages resource groups.
type ResourceGroupsAPI interface {
	CreateOrUpdate(ctx context.Context, name string, group armresources.ResourceGroup) (armresources.ResourceGroup, error)
}

type clients struct {
	servers   ServersAPI
	firewalls FirewallRulesAPI
	groups    ResourceGroupsAPI
}

// azureClients builds the management clients on first use and caches them.
// Authentication uses the Azure CLI login.
func (p *Provider) azureClients() (*clients, error) {
	if p.clients != nil {
		return p.clients, nil
	}
	if p.cfg.SubscriptionID == "" {
		return nil, errors.New("The environment variable AZURE_SUBSCRIPTION_ID is not set")
	}

	cred, err := azidentity.NewAzureCLICredential(nil)
	if err != nil {
		return nil, fmt.Errorf("acquiring cli credential: %w", err)
	}
	servers, err := armpostgresql.NewServersClient(p.cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating servers client: %w", err)
	}
	firewalls, err := armpostgresql.NewFirewallRulesClient(p.cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating firewall rules client: %w", err)
	}
	groups, err := armresources.NewResourceGroupsClient(p.cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating resource groups client: %w", err)
	}

	p.clients = &clients{
		servers:   serversClient{servers},
		firewalls: firewallRulesClient{firewalls},
		groups:    resourceGroupsClient{groups},
	}
	return p.clients, nil
}

type serversClient struct {
	inner *armpostgresql.ServersClient
}

func (c serversClient) Get(ctx context.Context, resourceGroup, name string) (armpostgresql.Server, error) {
	resp, err := c.inner.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		return armpostgresql.Server{}, err
	}
	return resp.Server, nil
}

func (c serversClient) Create(ctx context.Context, resourceGroup, name string, server armpostgresql.ServerForCreate) (armpostgresql.Server, error) {
	poller, err := c.inner.BeginCreate(ctx, resourceGroup, name, server, nil)
	if err != nil {
		return armpostgresql.Server{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armpostgresql.Server{}, err
	}
	return resp.Server, nil
}

func (c serversClient) Delete(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.inner.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

type firewallRulesClient struct {
	inner *armpostgresql.FirewallRulesClient
}

func (c firewallRulesClient) CreateOrUpdate(ctx context.Context, resourceGroup, server, rule string, fw armpostgresql.FirewallRule) (armpostgresql.FirewallRule, error) {
	poller, err := c.inner.BeginCreateOrUpdate(ctx, resourceGroup, server, rule, fw, nil)
	if err != nil {
		return armpostgresql.FirewallRule{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armpostgresql.FirewallRule{}, err
	}
	return resp.FirewallRule, nil
}

type resourceGroupsClient struct {
	inner *armresources.ResourceGroupsClient
}

func (c resourceGroupsClient) CreateOrUpdate(ctx context.Context, name string, group armresources.ResourceGroup) (armresources.ResourceGroup, error) {
	resp, err := c.inner.CreateOrUpdate(ctx, name, group, nil)
	if err != nil {
		return armresources.ResourceGroup{}, err
	}
	return resp.ResourceGroup, nil
}
