// balancer контур управления двухколёсной балансирующей платформы.
//
// Использование:
//
//	balancer run -c balancer.yml [-q]   запуск контура до SIGINT/SIGTERM
//	balancer calibrate -c balancer.yml  калибровка нейтралей гироскопа
//	balancer ports                      список последовательных портов
//	balancer config -c balancer.yml     итоговый конфиг в YAML
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/shiwa/balancer/internal/config"
	"github.com/shiwa/balancer/internal/hw/boardlink"
	"github.com/shiwa/balancer/internal/logger"
	"github.com/shiwa/balancer/pkg/balancer"
)

var configFlag = cli.StringFlag{
	Name:  "config, c",
	Usage: "путь к YAML конфигу (по умолчанию balancer.yml, если есть)",
}

func main() {
	app := cli.NewApp()
	app.Name = "balancer"
	app.Usage = "контур управления балансирующей платформы"
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "запуск контура управления",
			Flags: []cli.Flag{
				configFlag,
				cli.BoolFlag{Name: "quiet, q", Usage: "меньше вывода"},
			},
			Action: runAction,
		},
		{
			Name:   "calibrate",
			Usage:  "определить нейтрали гироскопа; платформа должна стоять неподвижно",
			Flags:  []cli.Flag{configFlag},
			Action: calibrateAction,
		},
		{
			Name:   "ports",
			Usage:  "список последовательных портов",
			Action: portsAction,
		},
		{
			Name:   "config",
			Usage:  "вывести итоговый конфиг",
			Flags:  []cli.Flag{configFlag},
			Action: configAction,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		path = "balancer.yml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// signalContext отменяется по SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("получен сигнал %v, завершение...", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Bool("quiet") {
		cfg.Log.Quiet = true
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()
	return balancer.RunDaemon(ctx, cfg)
}

func calibrateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()
	x, z, err := balancer.Calibrate(ctx, cfg)
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	fmt.Printf("gyro neutral: x=%d z=%d (%.3f, %.3f)\n", int32(x), int32(z), x.Float(), z.Float())
	return nil
}

func portsAction(c *cli.Context) error {
	ports, err := boardlink.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("последовательные порты не найдены")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func configAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
