package log

import (
	"context"
	"database/sql/driver"
)

var (
	_ driver.Driver        = &driverWrapper{}
	_ driver.DriverContext = &driverWrapper{}
	_ driver.Connector     = &connectorWrapper{}
)

type driverWrapper struct {
	driver driver.Driver
	logger logger
}

func newDriver(d driver.Driver, l logger) *driverWrapper {
	return &driverWrapper{
		driver: d,
		logger: l,
	}
}

func (d *driverWrapper) Open(name string) (driver.Conn, error) {
	con, err := d.driver.Open(name)
	if err != nil {
		d.logger.Error("打开连接失败", "错误", err)
		return nil, err
	}
	d.logger.Debug("打开连接")
	return newConn(con, d.logger), nil
}

func (d *driverWrapper) OpenConnector(name string) (driver.Connector, error) {
	dc, ok := d.driver.(driver.DriverContext)
	if !ok {
		return &connectorWrapper{connector: dsnConnector{dsn: name, driver: d.driver}, driver: d, logger: d.logger}, nil
	}
	c, err := dc.OpenConnector(name)
	if err != nil {
		d.logger.Error("创建连接器失败", "错误", err)
		return nil, err
	}
	return &connectorWrapper{connector: c, driver: d, logger: d.logger}, nil
}

type connectorWrapper struct {
	connector driver.Connector
	driver    driver.Driver
	logger    logger
}

func (c *connectorWrapper) Connect(ctx context.Context) (driver.Conn, error) {
	con, err := c.connector.Connect(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "建立连接失败", "错误", err)
		return nil, err
	}
	c.logger.DebugContext(ctx, "建立连接")
	return newConn(con, c.logger), nil
}

func (c *connectorWrapper) Driver() driver.Driver {
	return c.driver
}

// dsnConnector 和 database/sql 内部的实现一样，用于没有实现 DriverContext 的驱动
type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (t dsnConnector) Connect(_ context.Context) (driver.Conn, error) {
	return t.driver.Open(t.dsn)
}

func (t dsnConnector) Driver() driver.Driver {
	return t.driver
}
