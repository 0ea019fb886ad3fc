package storage

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/convoflow/convoflow/pkg/config"
)

// DynamoDBProvider persists flows and secrets in DynamoDB. Tables use
// the tenant id as partition key so every query is tenant scoped at
// the storage layer.
type DynamoDBProvider struct {
	cfg     config.DynamoDBConfig
	client  *dynamodb.DynamoDB
	flows   *dynamoFlowStore
	secrets *dynamoSecretStore
}

// NewDynamoDBProvider creates a DynamoDB storage provider.
func NewDynamoDBProvider(cfg config.DynamoDBConfig) *DynamoDBProvider {
	return &DynamoDBProvider{cfg: cfg}
}

// Initialize connects and creates the tables if they do not exist.
func (p *DynamoDBProvider) Initialize() error {
	awsCfg := &aws.Config{Region: aws.String(p.cfg.Region)}
	if p.cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(p.cfg.Endpoint)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return fmt.Errorf("failed to create AWS session: %w", err)
	}
	p.client = dynamodb.New(sess)

	flowsTable := p.cfg.TablePrefix + "flows"
	secretsTable := p.cfg.TablePrefix + "secrets"

	if err := p.ensureTable(flowsTable, "flow_id"); err != nil {
		return err
	}
	if err := p.ensureTable(secretsTable, "key"); err != nil {
		return err
	}

	p.flows = &dynamoFlowStore{client: p.client, table: flowsTable}
	p.secrets = &dynamoSecretStore{client: p.client, table: secretsTable}
	return nil
}

func (p *DynamoDBProvider) ensureTable(name, rangeKey string) error {
	_, err := p.client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("tenant_id"), AttributeType: aws.String("S")},
			{AttributeName: aws.String(rangeKey), AttributeType: aws.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("tenant_id"), KeyType: aws.String("HASH")},
			{AttributeName: aws.String(rangeKey), KeyType: aws.String("RANGE")},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeResourceInUseException {
			return nil
		}
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	return p.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{TableName: aws.String(name)})
}

func (p *DynamoDBProvider) Close() error { return nil }

func (p *DynamoDBProvider) GetFlowStore() FlowStore { return p.flows }

func (p *DynamoDBProvider) GetSecretStore() SecretStore { return p.secrets }

type dynamoFlowStore struct {
	client *dynamodb.DynamoDB
	table  string
}

func (s *dynamoFlowStore) SaveFlow(record FlowRecord) error {
	item, err := dynamodbattribute.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}
	_, err = s.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

func (s *dynamoFlowStore) GetFlow(tenantID, flowID string) (FlowRecord, error) {
	out, err := s.client.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]*dynamodb.AttributeValue{
			"tenant_id": {S: aws.String(tenantID)},
			"flow_id":   {S: aws.String(flowID)},
		},
	})
	if err != nil {
		return FlowRecord{}, fmt.Errorf("failed to get flow: %w", err)
	}
	if out.Item == nil {
		return FlowRecord{}, ErrFlowNotFound
	}

	record := FlowRecord{}
	if err := dynamodbattribute.UnmarshalMap(out.Item, &record); err != nil {
		return FlowRecord{}, fmt.Errorf("failed to unmarshal flow: %w", err)
	}
	return record, nil
}

func (s *dynamoFlowStore) ListFlows(tenantID string) ([]FlowRecord, error) {
	out, err := s.client.Query(&dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("tenant_id = :tenant"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":tenant": {S: aws.String(tenantID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	records := make([]FlowRecord, 0, len(out.Items))
	for _, item := range out.Items {
		record := FlowRecord{}
		if err := dynamodbattribute.UnmarshalMap(item, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *dynamoFlowStore) DeleteFlow(tenantID, flowID string) error {
	if _, err := s.GetFlow(tenantID, flowID); err != nil {
		return err
	}
	_, err := s.client.DeleteItem(&dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]*dynamodb.AttributeValue{
			"tenant_id": {S: aws.String(tenantID)},
			"flow_id":   {S: aws.String(flowID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	return nil
}

type dynamoSecretStore struct {
	client *dynamodb.DynamoDB
	table  string
}

func (s *dynamoSecretStore) SaveSecret(secret Secret) error {
	item, err := dynamodbattribute.MarshalMap(secret)
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}
	_, err = s.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}
	return nil
}

func (s *dynamoSecretStore) GetSecret(tenantID, key string) (Secret, error) {
	out, err := s.client.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]*dynamodb.AttributeValue{
			"tenant_id": {S: aws.String(tenantID)},
			"key":       {S: aws.String(key)},
		},
	})
	if err != nil {
		return Secret{}, fmt.Errorf("failed to get secret: %w", err)
	}
	if out.Item == nil {
		return Secret{}, ErrSecretNotFound
	}

	secret := Secret{}
	if err := dynamodbattribute.UnmarshalMap(out.Item, &secret); err != nil {
		return Secret{}, fmt.Errorf("failed to unmarshal secret: %w", err)
	}
	return secret, nil
}

func (s *dynamoSecretStore) ListSecrets(tenantID string) ([]Secret, error) {
	out, err := s.client.Query(&dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("tenant_id = :tenant"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":tenant": {S: aws.String(tenantID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}

	secrets := make([]Secret, 0, len(out.Items))
	for _, item := range out.Items {
		secret := Secret{}
		if err := dynamodbattribute.UnmarshalMap(item, &secret); err != nil {
			return nil, fmt.Errorf("failed to unmarshal secret: %w", err)
		}
		secrets = append(secrets, secret)
	}
	return secrets, nil
}

func (s *dynamoSecretStore) DeleteSecret(tenantID, key string) error {
	if _, err := s.GetSecret(tenantID, key); err != nil {
		return err
	}
	_, err := s.client.DeleteItem(&dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]*dynamodb.AttributeValue{
			"tenant_id": {S: aws.String(tenantID)},
			"key":       {S: aws.String(key)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
