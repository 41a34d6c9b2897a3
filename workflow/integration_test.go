package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"bitbucket.org/mmdatafocus/shop_ledger/models"
	"bitbucket.org/mmdatafocus/shop_ledger/models/reports"
	"bitbucket.org/mmdatafocus/shop_ledger/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Concurrent sales against MySQL row locks, with redis caching and the
// reconciliation lock enabled.
func TestConcurrentSalesOnMySQL(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })
	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "shop_ledger_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	t.Cleanup(func() { config.SetRedisClient(nil) })
	models.MigrateTable()
	db := config.GetDB()

	tenantId := seedTenant(t, db)
	productId := seedProduct(t, db, tenantId, "Water 1L")
	seedOpening(t, db, tenantId, productId, "100", "0.5")

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := workflow.PostSale(ctx, db, workflow.NewSale{
				TenantId:       tenantId,
				SaleNumber:     fmt.Sprintf("S-%03d", i),
				SaleDate:       day(2),
				Lines:          []workflow.SaleLine{{ProductId: productId, Quantity: dec("3"), UnitSalePrice: dec("1")}},
				ReceivedAmount: dec("3"),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stock, err := models.GetCurrentStock(db, tenantId, productId)
	require.NoError(t, err)
	requireDecimal(t, "70", stock)
	balance, err := models.GetCurrentBalance(db, tenantId)
	require.NoError(t, err)
	requireDecimal(t, "30", balance)

	chain, err := models.CheckBankBalanceChain(db, tenantId)
	require.NoError(t, err)
	assert.True(t, chain.Consistent())
	drifts, err := models.CheckStockSummaryDrift(db, tenantId)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	_, cached, err := reports.GetStockStatisticsCached(ctx, db, tenantId)
	require.NoError(t, err)
	assert.False(t, cached)
	stats, cached, err := reports.GetStockStatisticsCached(ctx, db, tenantId)
	require.NoError(t, err)
	assert.True(t, cached)
	requireDecimal(t, "70", stats.TotalQty)

	logger, _ := newTestLogger()
	result, err := workflow.ProcessReconciliationJob(ctx, db, logger, workflow.ReconciliationJob{
		TenantId: tenantId,
		Kind:     workflow.JobKindFullCheck,
		DryRun:   true,
	})
	require.NoError(t, err)
	assert.Zero(t, result.Findings)
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("shop-ledger-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun("run", "-d", "--name", name, "-p", "127.0.0.1:0:6379", "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("shop-ledger-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=shop_ledger_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// "127.0.0.1:49154\n"
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
