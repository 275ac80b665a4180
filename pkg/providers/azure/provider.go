package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/postgresql/armpostgresql"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"

	"github.com/pgacloud/pgacloud/pkg/logging"
	"github.com/pgacloud/pgacloud/pkg/naming"
	"github.com/pgacloud/pgacloud/pkg/provider"
	"github.com/pgacloud/pgacloud/pkg/publicip"
)

type Config struct {
	SubscriptionID string `envconfig:"AZURE_SUBSCRIPTION_ID"`
}

// Provider provisions Azure Database for PostgreSQL single servers, opening
// the server to the invoking host through a firewall rule.
type Provider struct {
	log     *logging.Logger
	cfg     Config
	ip      *publicip.Resolver
	clients *clients
}

// Load never fails on a missing subscription; that is reported when a
// handler first needs a client, so help still works without credentials.
func Load(ctx context.Context, log *logging.Logger) (provider.Provider, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return &Provider{
		log: log,
		cfg: cfg,
		ip:  publicip.NewResolver(log),
	}, nil
}

// NewWithClients is used by tests to drop in fake management clients.
func NewWithClients(log *logging.Logger, servers ServersAPI, firewalls FirewallRulesAPI, groups ResourceGroupsAPI, ip *publicip.Resolver) *Provider {
	return &Provider{
		log: log,
		cfg: Config{SubscriptionID: "test-subscription"},
		ip:  ip,
		clients: &clients{
			servers:   servers,
			firewalls: firewalls,
			groups:    groups,
		},
	}
}

func (p *Provider) Summary() string { return "Azure Database for PostgreSQL" }

func (p *Provider) RegisterGrammar(g *provider.Grammar) {
	g.SetCredentialsHelp("Credentials are read from the environment, " +
		"specifically, the AZURE_SUBSCRIPTION_ID, AZURE_TENANT_ID, " +
		"AZURE_CLIENT_ID and AZURE_CLIENT_SECRET variables. See " +
		"https://docs.microsoft.com/en-us/azure/developer/python/configure-local-development-environment?tabs=cmd " +
		"for more information.")

	g.GlobalOption(provider.OptionSpec{
		Name:    "region",
		Help:    "name of the Azure location",
		Default: "westeurope",
	})
	g.GlobalOption(provider.OptionSpec{
		Name:     "resource-group",
		Help:     "name of the Azure resource group",
		Required: true,
	})

	g.Command(provider.CommandSpec{
		Name: "create-instance",
		Help: "create a new instance",
		Options: []provider.OptionSpec{
			{Name: "name", Help: "name of the instance", Required: true},
			{Name: "db-name", Help: "name of the default database", Default: "postgres"},
			{Name: "db-password", Help: "password for the database", Required: true},
			{Name: "db-username", Help: "user name for the database", Default: "postgres"},
			{Name: "db-major-version", Help: "version of PostgreSQL to deploy", Default: "11"},
			{Name: "instance-type", Help: "machine type for the instance nodes, e.g. GP_Gen5_8", Required: true},
			{Name: "storage-size", Type: provider.IntOption, Help: "storage size in GB", Required: true},
		},
		Handler: p.createInstance,
	})

	g.Command(provider.CommandSpec{
		Name: "delete-instance",
		Help: "delete an instance",
		Options: []provider.OptionSpec{
			{Name: "name", Help: "name of the instance", Required: true},
		},
		Handler: p.deleteInstance,
	})
}

func (p *Provider) createInstance(ctx context.Context, args *provider.Args) (map[string]any, error) {
	c, err := p.azureClients()
	if err != nil {
		return nil, err
	}

	group, err := p.createResourceGroup(ctx, c, args.String("resource-group"), args.String("region"))
	if err != nil {
		return nil, err
	}
	server, err := p.createServer(ctx, c, args)
	if err != nil {
		return nil, err
	}
	rule, err := p.createFirewallRule(ctx, c, args.String("resource-group"), args.String("name"))
	if err != nil {
		return nil, err
	}

	props := server.Properties
	if props == nil {
		props = &armpostgresql.ServerProperties{}
	}
	return map[string]any{
		"Id":              lo.FromPtr(server.ID),
		"ResourceGroupId": lo.FromPtr(group.Name),
		"FirewallRuleId":  lo.FromPtr(rule.ID),
		"Location":        lo.FromPtr(server.Location),
		"Hostname":        lo.FromPtr(props.FullyQualifiedDomainName),
		"Port":            5432,
		"Database":        "postgres",
		"Username":        lo.FromPtr(props.AdministratorLogin),
	}, nil
}

func (p *Provider) deleteInstance(ctx context.Context, args *provider.Args) (map[string]any, error) {
	c, err := p.azureClients()
	if err != nil {
		return nil, err
	}

	name := args.String("name")
	p.log.Debugf("Deleting Azure instance: %s...", name)
	if err := c.servers.Delete(ctx, args.String("resource-group"), name); err != nil {
		return nil, fmt.Errorf("deleting instance: %w", err)
	}

	return map[string]any{"Name": name, "Deleted": true}, nil
}

func (p *Provider) createResourceGroup(ctx context.Context, c *clients, name, region string) (armresources.ResourceGroup, error) {
	p.log.Debugf("Creating resource group with name: %s...", name)
	group, err := c.groups.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: to.Ptr(region),
	})
	if err != nil {
		return armresources.ResourceGroup{}, fmt.Errorf("creating resource group %s: %w", name, err)
	}
	return group, nil
}

// createServer provisions the server and blocks until the poller reports a
// terminal state.
func (p *Provider) createServer(ctx context.Context, c *clients, args *provider.Args) (armpostgresql.Server, error) {
	group := args.String("resource-group")
	name := args.String("name")

	_, err := c.servers.Get(ctx, group, name)
	if err == nil {
		return armpostgresql.Server{}, fmt.Errorf("Azure Database for PostgreSQL instance %s already exists.", name)
	}
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusNotFound {
		return armpostgresql.Server{}, fmt.Errorf("checking for existing instance: %w", err)
	}

	p.log.Debugf("Creating Azure instance: %s...", name)
	server, err := c.servers.Create(ctx, group, name, armpostgresql.ServerForCreate{
		Location: to.Ptr(args.String("region")),
		Properties: &armpostgresql.ServerPropertiesForDefaultCreate{
			CreateMode:                 to.Ptr(armpostgresql.CreateModeDefault),
			AdministratorLogin:         to.Ptr(args.String("db-username")),
			AdministratorLoginPassword: to.Ptr(args.String("db-password")),
			Version:                    to.Ptr(armpostgresql.ServerVersion(args.String("db-major-version"))),
			StorageProfile: &armpostgresql.StorageProfile{
				StorageMB:       to.Ptr(int32(args.Int("storage-size") * 1024)),
				StorageAutogrow: to.Ptr(armpostgresql.StorageAutogrowEnabled),
			},
		},
		SKU: &armpostgresql.SKU{
			Name: to.Ptr(args.String("instance-type")),
		},
	})
	if err != nil {
		return armpostgresql.Server{}, fmt.Errorf("creating instance: %w", err)
	}
	return server, nil
}

func (p *Provider) createFirewallRule(ctx context.Context, c *clients, group, server string) (armpostgresql.FirewallRule, error) {
	ip := p.ip.MyIP(ctx)
	name := naming.RuleName(server, ip)

	p.log.Debugf("Adding ingress rule for: %s/32...", ip)
	rule, err := c.firewalls.CreateOrUpdate(ctx, group, server, name, armpostgresql.FirewallRule{
		Properties: &armpostgresql.FirewallRuleProperties{
			StartIPAddress: to.Ptr(ip),
			EndIPAddress:   to.Ptr(ip),
		},
	})
	if err != nil {
		return armpostgresql.FirewallRule{}, fmt.Errorf("creating firewall rule %s: %w", name, err)
	}
	return rule, nil
}
