package rds

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"

	"github.com/pgacloud/pgacloud/pkg/logging"
	"github.com/pgacloud/pgacloud/pkg/naming"
	"github.com/pgacloud/pgacloud/pkg/provider"
	"github.com/pgacloud/pgacloud/pkg/publicip"
)

type Config struct {
	AccessKeyID     string        `envconfig:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string        `envconfig:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string        `envconfig:"AWS_SESSION_TOKEN"`
	CreateTimeout   time.Duration `envconfig:"PGACLOUD_RDS_CREATE_TIMEOUT" default:"60m"`
}

// Provider provisions PostgreSQL instances on Amazon RDS, opening the
// instance to the invoking host through a dedicated security group.
type Provider struct {
	log           *logging.Logger
	cfg           Config
	defaultRegion string
	ip            *publicip.Resolver
	clients       *clients
	pollInterval  time.Duration
}

func Load(ctx context.Context, log *logging.Logger) (provider.Provider, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	// Region resolution follows the SDK (environment, then shared config).
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving aws defaults: %w", err)
	}
	region := awsCfg.Region
	if region == "" {
		region = "us-east-1"
	}

	return &Provider{
		log:           log,
		cfg:           cfg,
		defaultRegion: region,
		ip:            publicip.NewResolver(log),
		pollInterval:  30 * time.Second,
	}, nil
}

// NewWithClients is used by tests to drop in fake AWS clients.
func NewWithClients(log *logging.Logger, rdsClient RDSClient, ec2Client EC2Client, ip *publicip.Resolver, pollInterval time.Duration) *Provider {
	return &Provider{
		log:           log,
		cfg:           Config{CreateTimeout: time.Minute},
		defaultRegion: "us-east-1",
		ip:            ip,
		clients:       &clients{rds: rdsClient, ec2: ec2Client},
		pollInterval:  pollInterval,
	}
}

func (p *Provider) Summary() string { return "Amazon AWS RDS PostgreSQL" }

func (p *Provider) RegisterGrammar(g *provider.Grammar) {
	g.SetCredentialsHelp("Credentials are read from ~/.aws/config by default and " +
		"can be overridden in the AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY " +
		"environment variables. The default region is read from ~/.aws/config " +
		"and will fall back to us-east-1 if not present.")

	g.GlobalOption(provider.OptionSpec{
		Name:    "region",
		Help:    "name of the AWS region",
		Default: p.defaultRegion,
	})

	g.Command(provider.CommandSpec{
		Name: "create-instance",
		Help: "create a new instance",
		Options: []provider.OptionSpec{
			{Name: "name", Help: "name of the instance", Required: true},
			{Name: "db-name", Help: "name of the default database", Default: "postgres"},
			{Name: "db-password", Help: "password for the database", Required: true},
			{Name: "db-username", Help: "user name for the database", Default: "postgres"},
			{Name: "db-major-version", Type: provider.IntOption, Help: "major version of PostgreSQL to deploy", Default: 13},
			{Name: "instance-type", Help: "machine type for the instance nodes, e.g. db.m3.large", Required: true},
			{Name: "storage-iops", Type: provider.IntOption, Help: "storage IOPs to allocate", Default: 0},
			{Name: "storage-size", Type: provider.IntOption, Help: "storage size in GB", Required: true},
			{Name: "storage-type", Help: "storage type for the data database", Default: "gp2"},
		},
		Handler: p.createInstance,
	})

	g.Command(provider.CommandSpec{
		Name:    "get-vpcs",
		Help:    "list the VPCs in the region",
		Handler: p.getVpcs,
	})
}

func (p *Provider) createInstance(ctx context.Context, args *provider.Args) (map[string]any, error) {
	c, err := p.awsClients(ctx, args.String("region"))
	if err != nil {
		return nil, err
	}

	name := args.String("name")
	ip := p.ip.MyIP(ctx)

	groupID, err := p.createSecurityGroup(ctx, c, name, ip)
	if err != nil {
		return nil, err
	}
	if err := p.addIngressRule(ctx, c, groupID, ip); err != nil {
		return nil, err
	}
	instance, err := p.createDBInstance(ctx, c, args, groupID)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"Id":              aws.ToString(instance.DBInstanceIdentifier),
		"Location":        aws.ToString(instance.AvailabilityZone),
		"SecurityGroupId": groupID,
		"Hostname":        aws.ToString(instance.Endpoint.Address),
		"Port":            aws.ToInt32(instance.Endpoint.Port),
		"Database":        aws.ToString(instance.DBName),
		"Username":        aws.ToString(instance.MasterUsername),
	}, nil
}

func (p *Provider) getVpcs(ctx context.Context, args *provider.Args) (map[string]any, error) {
	c, err := p.awsClients(ctx, args.String("region"))
	if err != nil {
		return nil, err
	}

	p.log.Debugf("Fetching VPCs...")
	vpcs := []map[string]any{}
	input := &ec2.DescribeVpcsInput{}
	for {
		out, err := c.ec2.DescribeVpcs(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("describing vpcs: %w", err)
		}
		vpcs = append(vpcs, lo.Map(out.Vpcs, func(vpc ec2types.Vpc, _ int) map[string]any {
			return map[string]any{
				"Id":        aws.ToString(vpc.VpcId),
				"CidrBlock": aws.ToString(vpc.CidrBlock),
				"State":     string(vpc.State),
				"IsDefault": aws.ToBool(vpc.IsDefault),
			}
		})...)
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}

	return map[string]any{"vpcs": vpcs}, nil
}

func (p *Provider) createSecurityGroup(ctx context.Context, c *clients, instance, ip string) (string, error) {
	name := naming.RuleName(instance, ip)
	p.log.Debugf("Creating security group: %s...", name)
	out, err := c.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String(fmt.Sprintf("Inbound access for %s to RDS instance %s", ip, instance)),
	})
	if err != nil {
		return "", fmt.Errorf("creating security group: %w", err)
	}
	return aws.ToString(out.GroupId), nil
}

func (p *Provider) addIngressRule(ctx context.Context, c *clients, groupID, ip string) error {
	p.log.Debugf("Adding ingress rule for: %s/32...", ip)
	_, err := c.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(groupID),
		IpPermissions: []ec2types.IpPermission{
			{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int32(5432),
				ToPort:     aws.Int32(5432),
				IpRanges: []ec2types.IpRange{
					{
						CidrIp:      aws.String(ip + "/32"),
						Description: aws.String("pgcloud client " + ip),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("authorizing ingress: %w", err)
	}
	return nil
}

// createDBInstance starts the instance and blocks until it leaves the
// provisioning states. The security group is removed again when the create
// call itself is rejected.
func (p *Provider) createDBInstance(ctx context.Context, c *clients, args *provider.Args, groupID string) (*rdstypes.DBInstance, error) {
	name := args.String("name")

	input := &rds.CreateDBInstanceInput{
		DBInstanceIdentifier:    aws.String(name),
		AllocatedStorage:        aws.Int32(int32(args.Int("storage-size"))),
		DBName:                  aws.String(args.String("db-name")),
		Engine:                  aws.String("postgres"),
		EngineVersion:           aws.String(strconv.Itoa(args.Int("db-major-version"))),
		StorageType:             aws.String(args.String("storage-type")),
		StorageEncrypted:        aws.Bool(true),
		AutoMinorVersionUpgrade: aws.Bool(true),
		MultiAZ:                 aws.Bool(false),
		MasterUsername:          aws.String(args.String("db-username")),
		MasterUserPassword:      aws.String(args.String("db-password")),
		DBInstanceClass:         aws.String(args.String("instance-type")),
		VpcSecurityGroupIds:     []string{groupID},
	}
	if iops := args.Int("storage-iops"); iops > 0 {
		input.Iops = aws.Int32(int32(iops))
	}

	p.log.Debugf("Creating RDS instance: %s...", name)
	if _, err := c.rds.CreateDBInstance(ctx, input); err != nil {
		p.deleteSecurityGroup(ctx, c, groupID)
		var exists *rdstypes.DBInstanceAlreadyExistsFault
		if errors.As(err, &exists) {
			return nil, fmt.Errorf("RDS instance %s already exists.", name)
		}
		return nil, fmt.Errorf("creating database instance: %w", err)
	}

	return p.waitForInstance(ctx, c, name)
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, c *clients, groupID string) {
	p.log.Debugf("Deleting security group: %s...", groupID)
	_, err := c.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(groupID),
	})
	if err != nil {
		p.log.Warnf("deleting security group %s: %v", groupID, err)
	}
}

func (p *Provider) waitForInstance(ctx context.Context, c *clients, name string) (*rdstypes.DBInstance, error) {
	operation := func() (*rdstypes.DBInstance, error) {
		out, err := c.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
			DBInstanceIdentifier: aws.String(name),
		})
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("describing instance %s: %w", name, err))
		}
		if len(out.DBInstances) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("instance %s disappeared while provisioning", name))
		}
		instance := &out.DBInstances[0]
		status := aws.ToString(instance.DBInstanceStatus)
		if status == "creating" || status == "backing-up" {
			p.log.Debugf("Instance %s status: %s, waiting...", name, status)
			return nil, fmt.Errorf("instance %s still %s", name, status)
		}
		return instance, nil
	}

	instance, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.pollInterval)),
		backoff.WithMaxElapsedTime(p.cfg.CreateTimeout),
	)
	if err != nil {
		return nil, err
	}

	if instance.Endpoint == nil || instance.Endpoint.Address == nil {
		return nil, fmt.Errorf("RDS instance %s entered status %q without an endpoint", name, aws.ToString(instance.DBInstanceStatus))
	}
	return instance, nil
}
